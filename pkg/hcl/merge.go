package hcl

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/leowmjw/go-sonify/pkg/render"
)

// MergeHCLFiles combines multiple HCL files into a single HCL file body.
// Files are concatenated in the order given, the way Terraform loads a directory of .tf files.
func MergeHCLFiles(filePaths []string) (*hcl.File, error) {
	parser := hclparse.NewParser()
	var merged bytes.Buffer

	for _, path := range filePaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		merged.Write(content)
		merged.WriteString("\n")
	}

	file, diags := parser.ParseHCL(merged.Bytes(), "merged.hcl")
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse merged HCL content: %s", diags.Error())
	}
	return file, nil
}

// ParseHCLDirectory parses every .hcl file directly inside dirPath as one document
func ParseHCLDirectory(dirPath string) ([]*render.Config, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	var hclFiles []string
	for _, e := range entries {
		if !e.IsDir() && IsHCLBasedOnExtension(e.Name()) {
			hclFiles = append(hclFiles, filepath.Join(dirPath, e.Name()))
		}
	}
	if len(hclFiles) == 0 {
		return nil, fmt.Errorf("no HCL files found in directory %s", dirPath)
	}
	sort.Strings(hclFiles)

	merged, err := MergeHCLFiles(hclFiles)
	if err != nil {
		return nil, err
	}
	configs, err := decodeRenderFile(merged, evalContext(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dirPath, err)
	}
	render.SetBaseDir(configs, dirPath)
	return configs, nil
}

// LoadConfig loads render configs from an HCL, YAML or JSON file, or a directory of HCL files
func LoadConfig(path string) ([]*render.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return ParseHCLDirectory(path)
	}
	if IsHCLBasedOnExtension(path) {
		return ParseRenderFile(path)
	}
	return render.LoadFile(path)
}
