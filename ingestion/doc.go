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

// Package ingestion turns corpus items into enrichment records ready for indexing.
//
// A Graph runs the fixed stage order extract, verbalize, chunk and embed for one
// item. Verbalization calls share a Limiter so that no more than a configured
// number of image descriptions are in flight at once across a whole batch.
// A failed image is recorded on its span and counted; it fails the item only
// when the failure ratio exceeds the definition's threshold.
//
// Pipeline processes a batch of items concurrently on an ants worker pool and
// reports a Result per item in input order.
package ingestion
