package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/envgo"
)

var errNoLockTable = errors.New("no lock table configured")

// lockOwner builds an identity for lock items so operators can tell who
// holds a stuck lock. Uniqueness comes from the nanosecond component.
func lockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// fileLock is the token for a lock item held in DynamoDB.
type fileLock struct {
	env      *Env
	name     string
	uri      string
	released atomic.Bool
}

func (l *fileLock) Path() string { return l.name }

// lockURI is the partition key value: bucket and key together, so one lock
// table can serve many environments.
func (e *Env) lockURI(key string) string {
	return "s3://" + e.bucket + "/" + key
}

// LockFile implements envgo.Env. The lock is a conditional put into the
// lock table; an existing item means another holder, reported as ErrLocked
// without retrying.
func (e *Env) LockFile(name string) (envgo.FileLock, error) {
	if e.lockTable == "" {
		return nil, &envgo.Error{Op: "lock", Path: name, Err: envgo.ErrNotSupported}
	}
	if e.ddb == nil {
		return nil, &envgo.Error{Op: "lock", Path: name, Err: errNoLockTable}
	}

	uri := e.lockURI(e.key(name))
	_, err := e.ddb.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(e.lockTable),
		Item: map[string]types.AttributeValue{
			"lock_path":   &types.AttributeValueMemberS{Value: uri},
			"owner":       &types.AttributeValueMemberS{Value: e.owner},
			"acquired_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lock_path)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return nil, &envgo.Error{Op: "lock", Path: name, Err: envgo.ErrLocked}
		}
		return nil, wrapErr("lock", name, err)
	}

	return &fileLock{env: e, name: name, uri: uri}, nil
}

// UnlockFile implements envgo.Env. The delete is conditional on ownership,
// so a token cannot release a lock some other process re-acquired.
func (e *Env) UnlockFile(lock envgo.FileLock) error {
	fl, ok := lock.(*fileLock)
	if !ok || fl == nil || fl.env != e {
		return &envgo.Error{Op: "unlock", Path: lockPath(lock), Err: envgo.ErrInvalidArgument}
	}
	if fl.released.Swap(true) {
		return &envgo.Error{Op: "unlock", Path: fl.name, Err: envgo.ErrInvalidArgument}
	}

	// "owner" is a DynamoDB reserved word.
	_, err := e.ddb.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(e.lockTable),
		Key: map[string]types.AttributeValue{
			"lock_path": &types.AttributeValueMemberS{Value: fl.uri},
		},
		ConditionExpression:      aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: e.owner},
		},
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return &envgo.Error{Op: "unlock", Path: fl.name, Err: envgo.ErrInvalidArgument}
		}
		return wrapErr("unlock", fl.name, err)
	}
	return nil
}

func lockPath(lock envgo.FileLock) string {
	if lock == nil {
		return ""
	}
	return lock.Path()
}
