// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package uuid

import (
	"fmt"

	gouuid "github.com/hashicorp/go-uuid"
)

// Generate is used to generate a random UUID. It panics if the system source
// of randomness fails, which leaves nothing sensible to do.
func Generate() string {
	id, err := gouuid.GenerateUUID()
	if err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}
	return id
}

// Short is used to generate the first 8 characters of a UUID.
func Short() string {
	return Generate()[0:8]
}
