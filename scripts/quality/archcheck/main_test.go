package main

import (
	"strings"
	"testing"
)

func TestViolationReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		importer string
		imported string
		want     string
	}{
		{
			name:     "contract package importing internal",
			importer: "wa-recall/pkg/recall",
			imported: "wa-recall/internal/kernel",
			want:     "pkg/recall must not import internal/*",
		},
		{
			name:     "kernel importing driver",
			importer: "wa-recall/internal/kernel",
			imported: "wa-recall/internal/driver/whatsapp",
			want:     "internal/kernel must not import internal/driver/*",
		},
		{
			name:     "module importing settings backend",
			importer: "wa-recall/modules/antidelete",
			imported: "wa-recall/internal/settings",
			want:     "modules/* must not import internal/*",
		},
		{
			name:     "module importing whatsapp client",
			importer: "wa-recall/modules/antidelete",
			imported: "go.mau.fi/whatsmeow/types",
			want:     "modules/* must stay platform neutral",
		},
		{
			name:     "settings importing module",
			importer: "wa-recall/internal/settings",
			imported: "wa-recall/modules/antidelete",
			want:     "internal/settings must not import modules/*",
		},
		{
			name:     "driver importing whatsapp client",
			importer: "wa-recall/internal/driver/whatsapp",
			imported: "go.mau.fi/whatsmeow",
		},
		{
			name:     "module importing contracts",
			importer: "wa-recall/modules/tmpreclaim",
			imported: "wa-recall/pkg/recall",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := violationReason(testCase.importer, testCase.imported); got != testCase.want {
				t.Fatalf("violationReason() = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestCollectViolationsDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()

	packages := []listedPackage{
		{
			ImportPath:  "wa-recall/modules/tmpreclaim",
			Imports:     []string{"wa-recall/internal/settings"},
			TestImports: []string{"wa-recall/internal/settings"},
		},
		{
			ImportPath: "wa-recall/modules/antidelete",
			Imports:    []string{"wa-recall/pkg/recall", "wa-recall/internal/kernel"},
		},
	}

	violations := collectViolations(packages)
	if len(violations) != 2 {
		t.Fatalf("violations = %v, want 2 entries", violations)
	}
	if !strings.HasPrefix(violations[0], "wa-recall/modules/antidelete") {
		t.Fatalf("violations not sorted: %v", violations)
	}
}
