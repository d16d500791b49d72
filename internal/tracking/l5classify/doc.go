// Package l5classify owns Layer 5 (Classification) of the track processing
// model.
//
// Responsibilities: assigning each track a validity category (1-8) and
// refining it through an ordered list of rules: diffraction-limited test,
// cohort rescue, buffer background test, hotspot splitting, gap density and
// displacement outliers.
//
// Category moves after the initial assignment go through a small state
// machine (see Apply). Only category 1 and 2 tracks can move; incomplete,
// persistent and compound tracks keep their initial category.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6.
package l5classify
