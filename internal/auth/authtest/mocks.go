// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package authtest provides testify mocks for the auth package's ports.
package authtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/document"
)

// MockUserRepository mocks auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock whose expectations are asserted at
// test cleanup.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create implements auth.UserRepository.
func (m *MockUserRepository) Create(ctx context.Context, user auth.User) (auth.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(auth.User), args.Error(1)
}

// FindOne implements auth.UserRepository.
func (m *MockUserRepository) FindOne(ctx context.Context, filter document.Filter) (auth.User, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(auth.User), args.Error(1)
}

// Find implements auth.UserRepository.
func (m *MockUserRepository) Find(ctx context.Context, filter document.Filter) ([]auth.User, error) {
	args := m.Called(ctx, filter)
	users, _ := args.Get(0).([]auth.User)
	return users, args.Error(1)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock whose expectations are asserted at
// test cleanup.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	args := m.Called(ctx, password)
	return args.String(0), args.Error(1)
}

// Compare implements auth.PasswordHasher.
func (m *MockPasswordHasher) Compare(ctx context.Context, password, hash string) (bool, error) {
	args := m.Called(ctx, password, hash)
	return args.Bool(0), args.Error(1)
}

var (
	_ auth.UserRepository = (*MockUserRepository)(nil)
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
)
