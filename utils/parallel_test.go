package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func setParallelFactor(t *testing.T, factor int) {
	t.Helper()
	old := ParallelFactor
	ParallelFactor = factor
	t.Cleanup(func() {
		ParallelFactor = old
	})
}

func TestGroupWorkParallelCoversAllWork(t *testing.T) {
	setParallelFactor(t, 4)
	const totalSize = 107

	var covered [totalSize]int32
	var groups int32
	err := GroupWorkParallel(
		context.Background(),
		totalSize,
		func(groupSize int) {
			atomic.StoreInt32(&groups, int32(groupSize))
		},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) error {
				atomic.AddInt32(&covered[workNum], 1)
				return nil
			}, nil
		},
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, groups, test.ShouldEqual, int32(ParallelFactor))
	for i := range covered {
		test.That(t, covered[i], test.ShouldEqual, int32(1))
	}
}

func TestGroupWorkParallelCollectsErrors(t *testing.T) {
	setParallelFactor(t, 2)
	boom := errors.New("boom")
	err := GroupWorkParallel(
		context.Background(),
		10,
		func(groupSize int) {},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) error {
				if workNum == 3 {
					return boom
				}
				return nil
			}, nil
		},
	)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
}

func TestGroupWorkParallelDoneFuncRuns(t *testing.T) {
	setParallelFactor(t, 2)
	var done int32
	err := GroupWorkParallel(
		context.Background(),
		4,
		func(groupSize int) {},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return nil, func() {
				atomic.AddInt32(&done, 1)
			}
		},
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldEqual, int32(ParallelFactor))
}
