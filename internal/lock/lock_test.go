/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "scheduler:monitor", "node-1")

	mock.ExpectSetNX("scheduler:monitor", "node-1", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "scheduler:monitor", "node-1")

	mock.ExpectSetNX("scheduler:monitor", "node-1", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key scheduler:monitor is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "scheduler:monitor", "node-1")

	mock.ExpectEval(unlockScript, []string{"scheduler:monitor"}, "node-1").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(unlockScript, []string{"scheduler:monitor"}, "node-1").SetVal(int64(0))
	err := locker.Unlock(context.Background())
	assert.EqualError(t, err, "unlock failed, either lock expired or you're not the lock holder for key scheduler:monitor")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "scheduler:monitor", "node-1")

	mock.ExpectEval(extendScript, []string{"scheduler:monitor"}, "node-1", "5000").SetVal(int64(1))
	assert.NoError(t, locker.ExtendLock(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"scheduler:monitor"}, "node-1", "5000").SetVal(int64(0))
	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock extension failed for key scheduler:monitor, either lock expired or you're not the holder")
	assert.NoError(t, mock.ExpectationsWereMet())
}
