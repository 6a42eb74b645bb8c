// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Ask prints prompt to standard output of the environment and returns the
// next line read from standard input with surrounding whitespace removed.
// Reaching the end of input without a newline is not an error.
func (e *Env) Ask(prompt string) (string, error) {
	fmt.Fprint(e.Stdout, prompt)
	line, err := bufio.NewReader(e.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
