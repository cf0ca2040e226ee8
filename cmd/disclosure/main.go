// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command disclosure runs the medical-history disclosure pipeline.
//
// Usage:
//
//	disclosure analyze history.txt
//	cat history.txt | disclosure analyze --tier rigorous
//	disclosure analyze --input request.json --output text
//	disclosure rules list
//	disclosure rules validate rules.yaml
//	disclosure status
//	disclosure serve --addr :8080
//
// Example requests against serve:
//
//	# Health check
//	curl http://localhost:8080/v1/disclosure/health
//
//	# Analyze a history
//	curl -X POST http://localhost:8080/v1/disclosure/analyze \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "2015-03-02 diagnosed with hypertension, started lisinopril"}'
//
// Configuration comes from built-in defaults, an optional --config file and
// DISCLOSURE_* environment variables.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
