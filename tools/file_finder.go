package tools

import (
	"os"
	"path/filepath"
	"strings"
)

const glbExtension = ".glb"

type FileFinder interface {
	GetGlbFilesToProcess(input string, folderProcessing bool, recursive bool) ([]string, error)
}

type StandardFileFinder struct{}

func NewStandardFileFinder() FileFinder {
	return &StandardFileFinder{}
}

func (f *StandardFileFinder) GetGlbFilesToProcess(input string, folderProcessing bool, recursive bool) ([]string, error) {
	// If folder processing is not enabled then the glb file is given by -input flag, otherwise look for glb in -input folder
	// eventually excluding nested folders if recursive is disabled
	if !folderProcessing {
		return []string{input}, nil
	}

	return f.getGlbFilesFromInputFolder(input, recursive)
}

func (f *StandardFileFinder) getGlbFilesFromInputFolder(input string, recursive bool) ([]string, error) {
	var glbFiles = make([]string, 0)

	baseInfo, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	err = filepath.Walk(
		input,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && !recursive && !os.SameFile(info, baseInfo) {
				return filepath.SkipDir
			} else {
				if strings.ToLower(filepath.Ext(info.Name())) == glbExtension && !info.IsDir() {
					glbFiles = append(glbFiles, path)
				}
			}
			return nil
		},
	)

	if err != nil {
		return nil, err
	}

	return glbFiles, nil
}
