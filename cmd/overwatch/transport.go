package main

import (
	"fmt"

	"github.com/WispAyr/overwatch-sub003/internal/ingest"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// unconfiguredTransportFactory is the Stream Ingestor's pluggable decode
// boundary (spec §1: "no codec libraries"). A real deployment supplies its
// own ingest.TransportFactory wired to whatever RTSP/file/URL decoder it
// runs; this default simply reports that no transport is attached yet,
// leaving sources with no matching decoder in a clean FAILED state instead
// of silently hanging.
func unconfiguredTransportFactory(kind models.SourceKind) (ingest.Transport, error) {
	return nil, fmt.Errorf("overwatch: no transport configured for source kind %q", kind)
}
