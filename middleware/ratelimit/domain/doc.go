// Package domain defines the contracts and types for fixed-window admission
// control and concurrency limiting.
//
// It depends neither on net/http nor on concrete storage, so the policy can be
// unit tested in isolation and the window store swapped without touching it.
package domain
