// Package minio provides an envgo.Env backed by MinIO or any S3-compatible
// object store (Ceph, SeaweedFS, Garage). It speaks the S3 wire protocol
// through the official MinIO client and carries no AWS SDK dependency, which
// makes it the right choice for self-hosted and air-gapped deployments.
//
// # Usage
//
//	env, err := minio.New("localhost:9000", "my-bucket",
//	    minio.WithCredentials("minioadmin", "minioadmin"),
//	    minio.WithPrefix("db/"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f, err := env.NewWritableFile("CURRENT")
//
// An existing *minio.Client can be wrapped with NewWithClient.
//
// # Deviations from filesystem environments
//
// Object stores have no directories, appends, or advisory locks, so parts of
// the envgo.Env contract degrade:
//
//   - NewAppendableFile returns envgo.ErrNotSupported. Objects are immutable
//     once written.
//   - CreateDir and RemoveDir are no-ops. GetChildren groups keys by "/" and
//     reports deeper keys as their first path element.
//   - Writes become visible only when Close finalizes the upload, and Close
//     is where upload errors surface. Sync cannot shorten that window.
//   - LockFile returns envgo.ErrNotSupported. When exclusion is required,
//     use the s3 backend with a DynamoDB lock table, or run a single writer.
package minio
