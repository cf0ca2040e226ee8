// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnexus/disclosure/services/disclosure/config"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

const sampleHistory = `2015-03-02 diagnosed with hypertension, started lisinopril.

2019 colonoscopy, no findings.`

// clearEnv isolates a test from the caller's DISCLOSURE_* variables.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvTier, config.EnvRulesFile, config.EnvCacheDir,
		config.EnvLogLevel, config.EnvConfig,
	} {
		t.Setenv(k, "")
	}
	t.Setenv(config.EnvLogLevel, "error")
}

// run executes the root command and returns stdout.
func run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeResult(t *testing.T, out string) pipeline.Result {
	t.Helper()
	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func TestAnalyze_File(t *testing.T) {
	path := writeTemp(t, "history.txt", sampleHistory)

	out, err := run(t, nil, "analyze", path)
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, pipeline.TierStandard, res.Metadata.Tier)
	assert.NotEmpty(t, res.Metadata.ExecutionID)
	assert.NotEmpty(t, res.Metadata.StateHistory)
	require.NotEmpty(t, res.Report.Items)

	var titles []string
	for _, item := range res.Report.Items {
		titles = append(titles, item.Title)
	}
	assert.Contains(t, strings.Join(titles, "\n"), "hypertension")
}

func TestAnalyze_Stdin(t *testing.T) {
	out, err := run(t, strings.NewReader(sampleHistory), "analyze", "--tier", "draft")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, pipeline.TierDraft, res.Metadata.Tier)
	assert.NotEmpty(t, res.Report.Items)
}

func TestAnalyze_JSONRequest(t *testing.T) {
	req := `{"segments": ["Type 2 diabetes since 2012"], "entities": [{"type": "Diagnosis", "value": "Diabetes", "confidence": 0.95, "date": "2012"}]}`
	path := writeTemp(t, "request.json", req)

	out, err := run(t, nil, "analyze", "--input", path)
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Greater(t, res.Confidence, 0.0)
	assert.NotEmpty(t, res.Report.Items)
}

func TestAnalyze_TextOutput(t *testing.T) {
	out, err := run(t, strings.NewReader(sampleHistory), "analyze", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Disclosure analysis")
	assert.Contains(t, out, "[summary]")
}

func TestAnalyze_Errors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := run(t, strings.NewReader("   \n"), "analyze")
		require.Error(t, err)
		assert.ErrorIs(t, err, pipeline.ErrInvalidInput)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := run(t, nil, "analyze", filepath.Join(t.TempDir(), "nope.txt"))
		require.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := run(t, strings.NewReader(sampleHistory), "analyze", "-o", "yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown output format")
	})

	t.Run("bad tier", func(t *testing.T) {
		_, err := run(t, strings.NewReader(sampleHistory), "analyze", "--tier", "platinum")
		require.Error(t, err)
	})

	t.Run("input and file", func(t *testing.T) {
		path := writeTemp(t, "r.json", `{"text": "asthma"}`)
		_, err := run(t, nil, "analyze", "--input", path, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mutually exclusive")
	})

	t.Run("malformed request", func(t *testing.T) {
		path := writeTemp(t, "r.json", `{"text": `)
		_, err := run(t, nil, "analyze", "--input", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse request")
	})
}

func TestReadSource_TooLarge(t *testing.T) {
	big := strings.NewReader(strings.Repeat("a", maxInputBytes+10))
	_, err := readSource(big, "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestRulesList(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		out, err := run(t, nil, "rules", "list", "-o", "json")
		require.NoError(t, err)

		var listing rulesListing
		require.NoError(t, json.Unmarshal([]byte(out), &listing))
		reg, err := rules.DefaultRegistry()
		require.NoError(t, err)
		assert.Equal(t, reg.Len(), listing.Count)
		assert.Len(t, listing.Rules, reg.Len())
		assert.Equal(t, reg.Version(), listing.Version)
	})

	t.Run("text", func(t *testing.T) {
		out, err := run(t, nil, "rules", "list", "-o", "text")
		require.NoError(t, err)
		assert.Contains(t, out, "Rules (")
	})

	t.Run("configured file", func(t *testing.T) {
		reg, err := rules.DefaultRegistry()
		require.NoError(t, err)
		subset := reg.Rules()[:1]
		data, err := rules.MarshalRules(subset)
		require.NoError(t, err)
		path := writeTemp(t, "rules.yaml", string(data))

		cfgPath := writeTemp(t, "disclosure.yaml", "rules:\n  file: "+path+"\n")
		out, err := run(t, nil, "--config", cfgPath, "rules", "list", "-o", "json")
		require.NoError(t, err)

		var listing rulesListing
		require.NoError(t, json.Unmarshal([]byte(out), &listing))
		assert.Equal(t, 1, listing.Count)
		assert.Equal(t, subset[0].ID, listing.Rules[0].ID)
	})
}

func TestRulesValidate(t *testing.T) {
	reg, err := rules.DefaultRegistry()
	require.NoError(t, err)
	data, err := rules.MarshalRules(reg.Rules())
	require.NoError(t, err)
	path := writeTemp(t, "rules.yaml", string(data))

	out, err := run(t, nil, "rules", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, reg.Version())

	_, err = run(t, nil, "rules", "validate")
	require.Error(t, err, "no file configured")

	bad := writeTemp(t, "bad.yaml", "rules:\n  - id: x\n")
	_, err = run(t, nil, "rules", "validate", bad)
	require.Error(t, err)
}

func TestStatus_Local(t *testing.T) {
	out, err := run(t, nil, "status", "-o", "json")
	require.NoError(t, err)

	var st statusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, pipeline.TierStandard, st.Pipeline.Config.Tier)
	assert.NotEmpty(t, st.Pipeline.Groups)
	assert.Positive(t, st.Rules.RuleCount)
	assert.NotNil(t, st.Cache)
	assert.False(t, st.Reload)
}

func TestStatus_Remote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, nil)
	ts := httptest.NewServer(newServer(svc, 0, 0, nil).router("test"))
	defer ts.Close()

	out, err := run(t, nil, "status", "--server", ts.URL, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Pipeline")
	assert.Contains(t, out, "Rules")

	_, err = run(t, nil, "status", "--server", ts.URL+"/nowhere")
	require.Error(t, err)
}
