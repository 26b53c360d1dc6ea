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

// Typed entry points, one per RPC. They are thin wrappers over Init,
// Finalize and Oneshot.

func (c *Core) InitSHA256() (uint32, error) { return c.Init(SHA256, nil) }
func (c *Core) InitSHA384() (uint32, error) { return c.Init(SHA384, nil) }
func (c *Core) InitSHA512() (uint32, error) { return c.Init(SHA512, nil) }

func (c *Core) InitHMACSHA256(key []byte) (uint32, error) { return c.Init(HMACSHA256, key) }
func (c *Core) InitHMACSHA384(key []byte) (uint32, error) { return c.Init(HMACSHA384, key) }
func (c *Core) InitHMACSHA512(key []byte) (uint32, error) { return c.Init(HMACSHA512, key) }

func (c *Core) FinalizeSHA256(id uint32) (d SHA256Digest, err error) {
	sum, err := c.Finalize(id, SHA256)
	if err != nil {
		return d, err
	}
	copy(d[:], Words(sum))
	return d, nil
}

func (c *Core) FinalizeSHA384(id uint32) (d SHA384Digest, err error) {
	sum, err := c.Finalize(id, SHA384)
	if err != nil {
		return d, err
	}
	copy(d[:], Words(sum))
	return d, nil
}

func (c *Core) FinalizeSHA512(id uint32) (d SHA512Digest, err error) {
	sum, err := c.Finalize(id, SHA512)
	if err != nil {
		return d, err
	}
	copy(d[:], Words(sum))
	return d, nil
}

func (c *Core) FinalizeHMACSHA256(id uint32) (t HMACSHA256Tag, err error) {
	sum, err := c.Finalize(id, HMACSHA256)
	if err != nil {
		return t, err
	}
	copy(t[:], sum)
	return t, nil
}

func (c *Core) FinalizeHMACSHA384(id uint32) (t HMACSHA384Tag, err error) {
	sum, err := c.Finalize(id, HMACSHA384)
	if err != nil {
		return t, err
	}
	copy(t[:], sum)
	return t, nil
}

func (c *Core) FinalizeHMACSHA512(id uint32) (t HMACSHA512Tag, err error) {
	sum, err := c.Finalize(id, HMACSHA512)
	if err != nil {
		return t, err
	}
	copy(t[:], sum)
	return t, nil
}

func (c *Core) DigestSHA256(data []byte) (d SHA256Digest, err error) {
	sum, err := c.Oneshot(SHA256, nil, data)
	if err != nil {
		return d, err
	}
	copy(d[:], Words(sum))
	return d, nil
}

func (c *Core) DigestSHA384(data []byte) (d SHA384Digest, err error) {
	sum, err := c.Oneshot(SHA384, nil, data)
	if err != nil {
		return d, err
	}
	copy(d[:], Words(sum))
	return d, nil
}

func (c *Core) DigestSHA512(data []byte) (d SHA512Digest, err error) {
	sum, err := c.Oneshot(SHA512, nil, data)
	if err != nil {
		return d, err
	}
	copy(d[:], Words(sum))
	return d, nil
}

func (c *Core) HMACSHA256(key, data []byte) (t HMACSHA256Tag, err error) {
	sum, err := c.Oneshot(HMACSHA256, key, data)
	if err != nil {
		return t, err
	}
	copy(t[:], sum)
	return t, nil
}

func (c *Core) HMACSHA384(key, data []byte) (t HMACSHA384Tag, err error) {
	sum, err := c.Oneshot(HMACSHA384, key, data)
	if err != nil {
		return t, err
	}
	copy(t[:], sum)
	return t, nil
}

func (c *Core) HMACSHA512(key, data []byte) (t HMACSHA512Tag, err error) {
	sum, err := c.Oneshot(HMACSHA512, key, data)
	if err != nil {
		return t, err
	}
	copy(t[:], sum)
	return t, nil
}
