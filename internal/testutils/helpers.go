// Package testutils builds Salesforce DX project fixtures for tests.
package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultPackage is the package directory CreateTempProject declares.
const DefaultPackage = "force-app"

// Label is one custom label entry.
type Label struct {
	FullName string
	Language string
	Value    string
}

// CreateTempProject creates an SFDX project with a single default package
// and the usual metadata directories.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	WriteFile(t, filepath.Join(tempDir, "sfdx-project.json"),
		`{"packageDirectories":[{"path":"`+DefaultPackage+`","default":true}],"namespace":"","sourceApiVersion":"58.0"}`)

	for _, dir := range []string{"lwc", "labels", "staticresources", "contentassets"} {
		require.NoError(t, os.MkdirAll(filepath.Join(SourceDir(tempDir), dir), 0o755))
	}
	return tempDir
}

// SourceDir is the main/default directory of the default package.
func SourceDir(projectDir string) string {
	return filepath.Join(projectDir, DefaultPackage, "main", "default")
}

// CreateTestComponent writes a component bundle and returns its directory.
// Without files it writes a minimal name.js and name.html.
func CreateTestComponent(t *testing.T, projectDir, name string, files map[string]string) string {
	t.Helper()
	if files == nil {
		files = map[string]string{
			name + ".js":   "import { LightningElement } from 'lwc';\nexport default class extends LightningElement {}\n",
			name + ".html": "<template><p>" + name + "</p></template>\n",
		}
	}

	dir := filepath.Join(SourceDir(projectDir), "lwc", name)
	for file, content := range files {
		WriteFile(t, filepath.Join(dir, file), content)
	}
	return dir
}

// CreateStaticResource writes a single-file static resource with its
// metadata file and returns the resource path.
func CreateStaticResource(t *testing.T, projectDir, file, content string) string {
	t.Helper()
	dir := filepath.Join(SourceDir(projectDir), "staticresources")
	path := filepath.Join(dir, file)
	WriteFile(t, path, content)

	name := file
	if i := strings.Index(file, "."); i > 0 {
		name = file[:i]
	}
	WriteFile(t, filepath.Join(dir, name+".resource-meta.xml"), "<StaticResource/>\n")
	return path
}

// LabelsXML renders a CustomLabels metadata document.
func LabelsXML(labels ...Label) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<CustomLabels xmlns="http://soap.sforce.com/2006/04/metadata">` + "\n")
	for _, l := range labels {
		b.WriteString("    <labels>\n")
		b.WriteString("        <fullName>" + l.FullName + "</fullName>\n")
		b.WriteString("        <language>" + l.Language + "</language>\n")
		b.WriteString("        <protected>true</protected>\n")
		b.WriteString("        <value>" + l.Value + "</value>\n")
		b.WriteString("    </labels>\n")
	}
	b.WriteString("</CustomLabels>\n")
	return b.String()
}

// WriteLabels writes the project's CustomLabels file and returns its path.
func WriteLabels(t *testing.T, projectDir string, labels ...Label) string {
	t.Helper()
	path := filepath.Join(SourceDir(projectDir), "labels", "CustomLabels.labels-meta.xml")
	WriteFile(t, path, LabelsXML(labels...))
	return path
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// WaitForFileChange waits for a file to be modified (useful for testing file watchers)
func WaitForFileChange(
	t *testing.T,
	filePath string,
	originalModTime time.Time,
	timeout time.Duration,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		info, err := os.Stat(filePath)
		if err == nil && info.ModTime().After(originalModTime) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s was not modified within %v", filePath, timeout)
}
