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
package guardrail

import "go.uber.org/zap"

// ToPreview returns approved SQL Server text bounded to rowCap rows.
func ToPreview(approved string, rowCap int) string {
	return New(Options{}, nil).ToPreview(approved, rowCap)
}

// ToPreview rewrites approved text so it returns at most rowCap rows. An
// existing bound gets rowCap as its argument; otherwise a bound is inserted
// the same way Validate inserts one. Applying it twice with the same rowCap
// gives the same text as applying it once.
func (v *Validator) ToPreview(approved string, rowCap int) string {
	if rowCap <= 0 {
		rowCap = DefaultPreviewRowLimit
	}
	stmt := parseStatement(approved, v.opts.Dialect)
	if stmt.main < 0 {
		return approved
	}
	if b, ok := stmt.findBound(v.opts.Dialect); ok {
		v.logger.Debug("Replacing row bound for preview",
			zap.Stringer("bound", b.kind),
			zap.Int64("was", b.value),
			zap.Int("rows", rowCap))
		return b.replace(approved, rowCap)
	}
	return stmt.insertBound(v.opts.Dialect, rowCap)
}
