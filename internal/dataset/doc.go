// Package dataset reads analysis files: YAML documents that describe the
// parameter of interest, the binned profile experiments and the counting
// experiments of an exclusion run.
//
// Bins and mass dependent signal grids are either written inline or read
// from CSV or XLSX tables next to the analysis file:
//
//	name: search
//	poi: {name: sigma, lower: 0, upper: 500}
//	experiments:
//	  - name: run1
//	    background_uncertainty: 0.1
//	    bin_table: run1_bins.csv       # label,observed,background,signal
//	    signal_table: run1_signal.xlsx # mass,<one column per bin>
//	counting:
//	  - {name: screen, conversion: 2.5, background: 0.4, observed: 1}
//
// Providers turns the definitions into p-value providers for the exclusion
// engine.
package dataset
