// Package manga defines the domain types shared by source connectors, the
// download pipeline, and delivery sinks: titled works, chapter and image
// references, jobs and their state machine, the error taxonomy, and the
// interfaces each pluggable collaborator implements.
package manga
