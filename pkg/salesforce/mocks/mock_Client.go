// Package mocks provides test doubles for the salesforce client.
package mocks

import (
	"context"

	salesforce "github.com/sells-group/research-agent/pkg/salesforce"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Query provides a mock function with given fields: ctx, soql, out
func (_m *MockClient) Query(ctx context.Context, soql string, out any) error {
	ret := _m.Called(ctx, soql, out)

	if len(ret) == 0 {
		panic("no return value specified for Query")
	}
	return ret.Error(0)
}

// UpdateOne provides a mock function with given fields: ctx, sObjectName, id, fields
func (_m *MockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	ret := _m.Called(ctx, sObjectName, id, fields)

	if len(ret) == 0 {
		panic("no return value specified for UpdateOne")
	}
	return ret.Error(0)
}

// UpdateCollection provides a mock function with given fields: ctx, sObjectName, records
func (_m *MockClient) UpdateCollection(ctx context.Context, sObjectName string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	ret := _m.Called(ctx, sObjectName, records)

	if len(ret) == 0 {
		panic("no return value specified for UpdateCollection")
	}

	var r0 []salesforce.CollectionResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]salesforce.CollectionResult)
	}
	return r0, ret.Error(1)
}

// DescribeSObject provides a mock function with given fields: ctx, name
func (_m *MockClient) DescribeSObject(ctx context.Context, name string) (*salesforce.SObjectDescription, error) {
	ret := _m.Called(ctx, name)

	if len(ret) == 0 {
		panic("no return value specified for DescribeSObject")
	}

	var r0 *salesforce.SObjectDescription
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*salesforce.SObjectDescription)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
