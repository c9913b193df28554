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

// Package router answers questions by dispatching each request to the
// retrieval adapter its reasoning level maps to.
//
// The routing table is closed: every reasoning level must be mapped when the
// Router is built, direct to a single-pass adapter and balanced and thorough to
// a multi-pass adapter. A failed adapter call is returned to the caller; the
// router never re-routes a request to another level.
package router
