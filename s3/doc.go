// Package s3 provides an Amazon S3 implementation of the envgo.Env interface.
//
// # Usage
//
//	env, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("db/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Reads use ranged GETs, writes stream through multipart uploads, and
// listings paginate automatically. An upload is finalized by Close, so a
// writable file's data becomes visible (and Close's error meaningful) only
// after Close returns.
//
// # Deviations from filesystem environments
//
// Objects cannot be appended or locked in place, and prefixes are not
// directories:
//
//   - NewAppendableFile returns ErrNotSupported.
//   - CreateDir and RemoveDir succeed without doing anything; GetChildren
//     treats "/" in keys as the directory separator and cannot distinguish
//     an empty directory from a missing one.
//   - LockFile returns ErrNotSupported unless a DynamoDB lock table is
//     configured with WithLockTable.
//
// # Locking via DynamoDB
//
// S3 has no compare-and-swap on names, so advisory locks live in a DynamoDB
// table keyed by lock_path. Acquisition is a conditional put that fails when
// the item exists, which maps onto the fail-fast LockFile contract.
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name envgo-locks \
//	  --attribute-definitions AttributeName=lock_path,AttributeType=S \
//	  --key-schema AttributeName=lock_path,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package s3
