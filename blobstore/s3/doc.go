// Package s3 provides an S3 implementation of the blobstore.Backend interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	backend := s3.NewBackend(awss3.NewFromConfig(cfg), "my-bucket", "edgecache/")
//
// # Features
//
//   - Multipart uploads for large cache entries
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Optional DynamoDB commit backend for atomic pointer updates
//     with concurrent writers
package s3
