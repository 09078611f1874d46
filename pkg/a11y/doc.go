// Package a11y parses accessibility snapshots into an index-addressed tree
// and filters nodes by role and state.
//
// Snapshots use the indentation-delimited form produced by Playwright's
// ariaSnapshot():
//
//	- navigation "Main":
//	  - link "Home":
//	    - /url: /
//	  - button "Submit" [disabled]
//
// Every node line becomes one Node. Property lines ("- /url: /") attach a
// state to the line above them. The tree root is virtual, so top-level lines
// are listed in Tree.Roots and addressed by one-element paths.
//
// Nodes reference their parent and children by NodeID, and every node
// carries its Path, so a node can be found again with Tree.Lookup.
package a11y
