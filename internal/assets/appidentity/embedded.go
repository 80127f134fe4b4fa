package appidentityassets

import _ "embed"

// YAML is the embedded copy of `.fulmen/app.yaml` so the binary carries its
// identity when no external file is discoverable.
//
//go:embed app.yaml
var YAML []byte
