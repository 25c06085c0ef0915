/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rand

import (
	"crypto/rand"
	"encoding/base32"
	"math"
	"math/big"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// String returns a random base32 string of the requested length, suitable for
// non-secret identifiers.
func String(length int) string {
	bufferSize := math.Ceil(float64(5*length-4) / float64(8))
	label := make([]byte, int(bufferSize))
	if _, err := rand.Read(label); err != nil {
		panic(err)
	}
	return base32.StdEncoding.EncodeToString(label)[:length]
}

// Password returns a cryptographically strong alphanumeric secret. Callers
// must never pass the result through a logger.
func Password(length int) string {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			panic(err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out)
}
