package memory

import (
	"testing"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
	"github.com/rpattn/assessor/internal/repository/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.RunYearRecordStore(t, func(t *testing.T) repository.YearRecordStore[domain.LandAssessment] {
		return NewStore[domain.LandAssessment]()
	})
}

func TestLockStoreContract(t *testing.T) {
	storetest.RunYearLockStore(t, func(t *testing.T) repository.YearLockStore {
		return NewLockStore()
	})
}
