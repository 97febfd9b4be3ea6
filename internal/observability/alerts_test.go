package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var headingPattern = regexp.MustCompile(`(?m)^#+\s+(.+)$`)

// runbookAnchors returns the GitHub style anchors of every heading in path.
func runbookAnchors(t *testing.T, path string) map[string]bool {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	anchors := map[string]bool{}
	for _, m := range headingPattern.FindAllStringSubmatch(string(data), -1) {
		anchor := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m[1])), " ", "-")
		anchors[anchor] = true
	}
	return anchors
}

func TestDirectoryAlertRules(t *testing.T) {
	root := filepath.Join("..", "..")
	data, err := os.ReadFile(filepath.Join(root, "deploy", "prometheus", "alerts", "directory.yml"))
	require.NoError(t, err)

	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(data, &rules))
	require.Len(t, rules.Groups, 1)
	require.Equal(t, "directory", rules.Groups[0].Name)

	severity := map[string]string{
		"HighErrorRate":         "critical",
		"HighLatency":           "warning",
		"TransactionRetryStorm": "warning",
		"IntegrityScanFailing":  "warning",
		"IntegrityScanStale":    "warning",
	}
	anchors := runbookAnchors(t, filepath.Join(root, "docs", "runbook-directory.md"))

	seen := map[string]bool{}
	for _, rule := range rules.Groups[0].Rules {
		t.Run(rule.Alert, func(t *testing.T) {
			want, ok := severity[rule.Alert]
			require.True(t, ok, "unexpected rule")
			assert.Equal(t, want, rule.Labels["severity"])
			assert.Contains(t, rule.Expr, "companydir_")
			assert.NotEmpty(t, rule.For)
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])

			doc, anchor, found := strings.Cut(rule.Annotations["runbook"], "#")
			require.True(t, found, "runbook needs an anchor")
			assert.Equal(t, "docs/runbook-directory.md", doc)
			assert.True(t, anchors[anchor], "runbook has no section %q", anchor)
		})
		seen[rule.Alert] = true
	}
	assert.Len(t, seen, len(severity))
}
