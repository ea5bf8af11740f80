// Package mocks provides shared test doubles: an in-memory task entry store
// that honours the same ordering and cursor rules as the PostgreSQL store,
// and a configurable issue describer.
//
//	st := mocks.NewTaskEntryStore()
//	st.ScanErr = store.ErrStoreUnavailable
//	svc, err := service.NewTaskQueryService(st, nil)
package mocks
