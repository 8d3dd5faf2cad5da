// Package filefield implements the "file" user profile field: a profile field
// whose value is a set of uploaded files rather than a scalar.
//
// The field itself holds no state beyond its definition and the user it is
// bound to. Everything else (storage, draft areas, permissions, forms) is
// reached through the collaborator interfaces declared in this package, so a
// host can plug in its own services. The memory package provides a complete
// in-memory host, and the minio package a blob Storer backed by an
// S3-compatible bucket.
//
// Files for a field live in a single permanent area per user context:
//
//	(contextID, "profilefield_file", "files_{fieldID}", 0)
//
// While a profile form is being edited the files are staged in a transient
// draft area, and reconciled back into the permanent area when the form is
// saved.
package filefield
