package testutil

// Ptr returns a pointer to v, for struct literals with pointer fields.
//
//	testutil.Ptr(true)   // *bool
//	testutil.Ptr(42)     // *int
func Ptr[T any](v T) *T { return &v }
