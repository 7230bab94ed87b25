// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package containers contains the end-to-end phases run against a live
// platform: service and repository containers, rebuilds, webhooks,
// isolation, DNS, navi, private registries, SSH keys and compose clusters.
//
// The phases share state through an e2eutil.Fixtures value and run in
// order as subtests of TestContainers. They are skipped unless AUTH_TOKEN
// is set.
package containers
