package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a [y/N] question on out and reads the answer from in.
// Anything but y/yes, including EOF, is "no".
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		fmt.Fprintln(out)
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
