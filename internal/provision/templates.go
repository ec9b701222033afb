package provision

import "text/template"

var markerTemplate = template.Must(template.New("marker").Parse(
	"{{.Sentinel}}\n"))

var readmeTemplate = template.Must(template.New("readme").Parse(`# Mirror of {{.UpstreamURL}}

This repository mirrors the latest "{{.Locale}}-N" version branch of
{{.UpstreamURL}} on the ` + "`{{.Branch}}`" + ` branch.

The file ` + "`{{.MarkerFile}}`" + ` records the upstream version currently
checked out. Every sync replaces the full content of this repository with
the newest upstream version branch, commits the result and tags it with the
version and the sync date. Content is checked every {{.Interval}}.

Do not commit here by hand: anything outside the preserved files is
overwritten on the next sync.
`))

var workflowTemplate = template.Must(template.New("workflow").Parse(`name: sync

on:
  schedule:
    - cron: "17 4 * * *"
  workflow_dispatch: {}

permissions:
  contents: write

jobs:
  sync:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
        with:
          ref: {{.Branch}}
          fetch-depth: 1
      - name: Run mirror sync
        run: mirrorsyncd sync --config ./mirrorsyncd.yaml
`))
