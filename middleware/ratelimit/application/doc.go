// Package application holds the use cases for admission control and
// concurrency limiting.
//
// It depends only on the domain package and never imports net/http.
// Evaluate and Commit are the two halves of the fixed-window policy;
// Service.Admit runs them as one atomic step per key.
package application
