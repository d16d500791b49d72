// Package report renders per-movie result summaries: a PNG of the
// category-1 lifetime histograms around the rescue pass, and an HTML page
// of category counts, lifetimes and MSD curves.
package report
