/*
Package auth implements the authentication collaborator: an in-memory account
store with bcrypt password hashing.

Accounts live only for the process lifetime. The rest of the system never
touches credentials; it only consumes the User identity returned by Register
and Login.
*/
package auth

import (
	"regexp"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"vidchat/internal/app/user"
	"vidchat/internal/pkg/errs"
	"vidchat/internal/pkg/randx"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// account couples an immutable User identity with its password hash.
type account struct {
	user         user.User
	passwordHash string
}

// Store is the in-memory account registry.
type Store struct {
	// mu protects the accounts map.
	mu sync.RWMutex

	// accounts maps username to its account record.
	accounts map[string]*account
}

// NewStore creates an empty account store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*account),
	}
}

// Register creates a new account and returns its User identity.
// The user gets a generated avatar reference seeded by the username.
func (s *Store) Register(username, password string) (user.User, *errs.CustomError) {
	if !usernameRegex.MatchString(username) {
		return user.User{}, errs.NewError(errs.ErrInvalidUsername)
	}

	passwordLen := utf8.RuneCountInString(password)
	if passwordLen < 6 || passwordLen > 50 {
		return user.User{}, errs.NewError(errs.ErrInvalidPassword)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return user.User{}, errs.NewError(errs.ErrUserAlreadyExists)
	}

	u := user.User{
		ID:       randx.UserID(),
		Username: username,
		Avatar:   randx.DefaultAvatarURL(username),
	}

	s.accounts[username] = &account{
		user:         u,
		passwordHash: string(hashedPassword),
	}

	return u, nil
}

// Login verifies credentials and returns the stored User identity.
// Unknown usernames and wrong passwords produce the same error, so a caller
// cannot probe which usernames exist.
func (s *Store) Login(username, password string) (user.User, *errs.CustomError) {
	s.mu.RLock()
	acct, ok := s.accounts[username]
	s.mu.RUnlock()

	if !ok {
		return user.User{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.passwordHash), []byte(password)); err != nil {
		return user.User{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	return acct.user, nil
}

// UpdateAvatar replaces the stored avatar reference for a user identified by
// ID and returns the updated User together with the reference it replaced.
// The caller uses the previous reference to clean up a superseded avatar
// object.
func (s *Store) UpdateAvatar(userID, avatarRef string) (user.User, string, *errs.CustomError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acct := range s.accounts {
		if acct.user.ID == userID {
			prev := acct.user.Avatar
			acct.user.Avatar = avatarRef
			return acct.user, prev, nil
		}
	}

	return user.User{}, "", errs.NewError(errs.ErrUnauthorized)
}
