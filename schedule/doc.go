// Copyright 2025 Poiesic Systems
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

// Package schedule runs pipeline definitions in bounded batches.
//
// Each call to Scheduler.RunOnce is one Run: it takes the definition's lease,
// resumes from the stored checkpoint, enriches items in batches and commits
// each batch to the index before advancing the checkpoint. A run stops taking
// new batches when the next one would overrun the execution-time budget and
// ends as timed_out; the next scheduled run continues from the checkpoint.
//
// Cancellation is observed between batches only. A batch that has started is
// processed and committed on a context detached from cancellation.
package schedule
