// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package analysis classifies fetched messages and generates reply text
// through an LLM, and dispatches per-batch analysis work asynchronously so
// fetch cycles never block on the model.
package analysis

import (
	"context"

	"github.com/cobalthq/mailwatch/internal/models"
)

// Analyzer produces an analysis for a message and, separately, fresh
// reply text. Reply text is always generated at send time rather than
// reusing the suggestion captured during analysis.
type Analyzer interface {
	Analyze(ctx context.Context, msg models.Message, instructions string) (models.AnalysisResult, error)
	GenerateReply(ctx context.Context, msg models.Message, instructions string) (string, error)
}
