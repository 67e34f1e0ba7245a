// Package mocks provides centralized mock implementations for testing.
//
// Each mock has a function field per interface method, default return values
// used when the function field is nil, and call tracking for verification:
//
//	gen := &mocks.MockGenerator{
//	    GenerateFn: func(ctx context.Context, req generation.Request) (*generation.Response, error) {
//	        return &generation.Response{Text: `{"title":"Foo"}`}, nil
//	    },
//	}
//
// When adding a new mock to this package:
//  1. Create a new file named after the interface being mocked
//  2. Implement the mock struct with function fields for each interface method
//  3. Guard call tracking with a mutex; mocks are shared across goroutines
package mocks
