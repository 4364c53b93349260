// Command narrative-core runs the narrative intelligence core: the HTTP API
// and background scheduler (serve), plus the one-shot admin tools
// (backfill, consolidate, cost-report).
package main

import "narrative-core/cmd/cmd"

func main() {
	cmd.Execute()
}
