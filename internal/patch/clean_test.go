package patch

import (
	"strings"
	"testing"

	"github.com/sfbench/sfbench/internal/types"
)

const simpleDiff = `diff --git a/force-app/main/default/classes/Foo.cls b/force-app/main/default/classes/Foo.cls
index 1111111..2222222 100644
--- a/force-app/main/default/classes/Foo.cls
+++ b/force-app/main/default/classes/Foo.cls
@@ -1,3 +1,3 @@
 public class Foo {
-    public Integer n = 1;
+    public Integer n = 2;
 }`

func TestCleanStripsMarkdownFences(t *testing.T) {
	raw := "Here is the fix:\n```diff\n" + simpleDiff + "\n```\nHope that helps!"
	got := Clean(raw)
	if strings.Contains(got, "```") {
		t.Error("fences should be stripped")
	}
	if strings.Contains(got, "Hope that helps") {
		t.Error("trailing prose should be stripped")
	}
	if !strings.Contains(got, "+    public Integer n = 2;") {
		t.Errorf("content line lost:\n%s", got)
	}
}

func TestCleanDropsDuplicateDiffHeader(t *testing.T) {
	raw := simpleDiff + "\n" + simpleDiff
	got := Clean(raw)
	if n := strings.Count(got, "diff --git"); n != 1 {
		t.Errorf("expected exactly one diff header, got %d", n)
	}
}

func TestCleanDropsProseBeforeDiff(t *testing.T) {
	raw := "I analyzed the problem.\nThe trigger needs a guard.\n" + simpleDiff
	got := Clean(raw)
	if !strings.HasPrefix(got, "diff --git") {
		t.Errorf("output should start at the diff header:\n%s", got)
	}
}

func TestCleanDropsNoiseSignLines(t *testing.T) {
	raw := strings.Join([]string{
		"diff --git a/f b/f",
		"--- a/f",
		"+++ b/f",
		"@@ -1,2 +1,2 @@",
		" context",
		"+",
		"+ ",
		"+1. first do this",
		"+- a bullet",
		"+* another bullet",
		"+real code line",
	}, "\n")
	got := Clean(raw)
	for _, bad := range []string{"+1. first", "+- a bullet", "+* another"} {
		if strings.Contains(got, bad) {
			t.Errorf("noise line %q survived:\n%s", bad, got)
		}
	}
	if !strings.Contains(got, "+real code line") {
		t.Errorf("real content dropped:\n%s", got)
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		simpleDiff,
		"```diff\n" + simpleDiff + "\n```",
		"prose\n" + simpleDiff + "\nmore prose",
		"no diff here at all",
		"",
	}
	for _, in := range inputs {
		once := Clean(in)
		twice := Clean(once)
		if once != twice {
			t.Errorf("clean not idempotent for %q:\nonce:  %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestValidateAcceptsGoodDiff(t *testing.T) {
	out, err := Validate(simpleDiff)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("validated patch must end with a newline")
	}
}

func TestValidateRejectsEmptyAndFenceOnly(t *testing.T) {
	for _, raw := range []string{"", "```diff\n```", "just some prose"} {
		_, err := Prepare(raw)
		if err == nil {
			t.Errorf("expected rejection for %q", raw)
			continue
		}
		kind, ok := types.KindOf(err)
		if !ok || kind != types.FailurePatchApplication {
			t.Errorf("expected patch_application failure for %q, got %v", raw, err)
		}
	}
}

func TestValidateTruncatesTrailingHunkHeader(t *testing.T) {
	raw := simpleDiff + "\n@@ -10,2 +10,2 @@"
	out, err := Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if strings.Contains(out, "@@ -10,2") {
		t.Errorf("dangling hunk header should be truncated:\n%s", out)
	}
}

func TestValidateRejectsHeadersWithoutContent(t *testing.T) {
	raw := "--- a/f\n+++ b/f\n@@ -1 +1 @@"
	if _, err := Validate(raw); err == nil {
		t.Error("headers with no content must be rejected")
	}
}

func TestPrepareFileHeaderOnlyDiff(t *testing.T) {
	// Patches without a diff --git header are still valid when the
	// file-header/hunk/content triple is present.
	raw := strings.Join([]string{
		"--- a/Foo.cls",
		"+++ b/Foo.cls",
		"@@ -1 +1 @@",
		"-old",
		"+new",
	}, "\n")
	if _, err := Prepare(raw); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
}
