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

// Package storage defines the persistence and external-service boundaries of kbpipe.
//
// The interfaces here decouple the scheduler, custodian and router from the
// concrete systems behind them:
//
//   - CheckpointRepository: monotonic high-water marks per definition version
//   - LeaseRepository: at most one active run per definition
//   - RunRepository: run history and the latest run state
//   - ConfigRepository: ingestion credentials as the index service exposes them (masked on read)
//   - IndexRepository: the vector/keyword index records are committed to and searched from
//   - ObjectStore: read-only listing and fetching of corpus items
//
// Implementations live in subpackages: badger (local durable state and a local
// index), qdrant (managed index service), fs and github (object stores).
//
// # Ordering
//
// Object stores return items ordered by core.Cursor, strictly after the cursor
// passed to List. SortItemsAfter implements that contract for stores that
// cannot order natively.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. Every method takes a
// context.Context for cancellation.
package storage
