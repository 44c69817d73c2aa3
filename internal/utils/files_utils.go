/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdinMarker selects standard input as the source of a --file flag or argument.
const StdinMarker = "-"

var ErrNoInput = errors.New("no input provided")

// ReadInput returns the text to work on. Positional args win over filePath;
// "-" in either place reads from stdin.
func ReadInput(args []string, filePath string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == StdinMarker {
		filePath = StdinMarker
	} else if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}

	var content []byte
	var err error
	switch filePath {
	case "":
		return "", ErrNoInput
	case StdinMarker:
		content, err = io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
	default:
		content, err = os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", ErrNoInput
	}
	return text, nil
}

func GetDefaultOutputFilePath(dbName, commandName string) string {
	if dbName == "" {
		dbName = "catalog"
	}
	switch commandName {
	case "schema-dump":
		return fmt.Sprintf("%s_schema.yaml", dbName)
	default: // ask, preview, etc.
		return fmt.Sprintf("%s_results.csv", dbName)
	}
}

// ConfirmAction shows sqlText and asks whether to run it.
func ConfirmAction(in io.Reader, out io.Writer, actionDescription, sqlText string) bool {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "\n-------------------------------------------------------------\n")
	fmt.Fprintf(out, "Approved %s:\n%s\n", actionDescription, sqlText)
	fmt.Fprint(out, "Do you want to run it against the database? (yes/no): ")
	text, _ := reader.ReadString('\n')
	action := strings.TrimSpace(strings.ToLower(text))
	return action == "yes" || action == "y"
}
