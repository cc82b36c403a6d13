package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/rangetest/pkg/rangetest/model"

	"cloud.google.com/go/bigquery"
)

var (
	sweepSchema string
	peerSchema  string
)

func init() {
	flag.StringVar(&sweepSchema, "sweep", "/var/spool/datatypes/rangetest_sweep.json", "filename to write the sweep schema")
	flag.StringVar(&peerSchema, "peer", "/var/spool/datatypes/rangetest_peer.json", "filename to write the peer schema")
}

// writeSchema infers the BigQuery schema of v and writes it to path.
func writeSchema(v any, path string) {
	sch, err := bigquery.InferSchema(v)
	rtx.Must(err, "failed to generate schema for %s", path)
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal schema for %s", path)
	err = os.WriteFile(path, b, 0o644)
	rtx.Must(err, "failed to write %s", path)
}

func main() {
	flag.Parse()
	// Generate and save schemas for autoloading.
	writeSchema(model.ArchivalData{}, sweepSchema)
	writeSchema(model.PeerArchive{}, peerSchema)
}
