// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
)

// editInEditor hands content to the user's $EDITOR via a temp file and
// returns what they saved. Any editor failure (unset, missing binary,
// non-zero exit) passes the content through unchanged with a warning,
// so edit mode degrades instead of aborting the build.
func editInEditor(content []byte, comment string) ([]byte, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		log.Errorf("$EDITOR is not set, using generated content as is")
		return content, nil
	}
	file, err := osutil.TempFile("cfz-edit")
	if err != nil {
		log.Errorf("failed to create edit file, using generated content as is: %v", err)
		return content, nil
	}
	defer os.Remove(file)
	data := append([]byte("# "+comment+"\n"), content...)
	if err := osutil.WriteFile(file, data); err != nil {
		log.Errorf("failed to write edit file, using generated content as is: %v", err)
		return content, nil
	}
	cmd := osutil.Command(editor, file)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if _, err := osutil.Run(context.Background(), 0, cmd); err != nil {
		log.Errorf("editor failed, using generated content as is: %v", err)
		return content, nil
	}
	edited, err := os.ReadFile(file)
	if err != nil {
		log.Errorf("failed to read edited file, using generated content as is: %v", err)
		return content, nil
	}
	return edited, nil
}
