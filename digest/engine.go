// Copyright (c) 2025, OpenPRoT Authors. All rights reserved.
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

package digest

// Engine is a hashing capability that can run one computation at a time.
// The core holds engines in a pool and removes an engine from the pool
// before calling Begin; from then on the engine is owned by the returned
// Context until Finalize or Release hands it back.
type Engine interface {
	// Begin starts a computation for alg. key is nil for plain hashes and
	// at most alg.MaxKeySize() bytes for HMAC variants. On error the
	// engine is not checked out.
	Begin(alg Algorithm, key []byte) (Context, error)
}

// Context is a checked-out computation. A Context must not be used after
// it has been passed to Update, Finalize or Release; the value returned
// by Update replaces it.
type Context interface {
	// Update folds data into the computation and returns the context to
	// use for the next step. On failure a non-nil context may still be
	// passed to Release to recover the engine; a nil context means the
	// engine is lost.
	Update(data []byte) (Context, error)

	// Finalize produces the output and gives the engine back. The engine
	// is returned on failure too whenever it is still usable.
	Finalize() (sum []byte, e Engine, err error)

	// Release abandons the computation and gives the engine back.
	Release() Engine
}

// Namer is implemented by engines that can describe their backend.
type Namer interface {
	Name() string
}

func engineName(e Engine) string {
	if n, ok := e.(Namer); ok {
		return n.Name()
	}
	return "unnamed"
}
