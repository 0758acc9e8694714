package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/db"
	"knightshade/internal/common/mq"
	"knightshade/internal/common/storage"
	"knightshade/internal/user/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeUserRepo struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*repository.User
	byUsername map[string]*repository.User
	byEmail    map[string]*repository.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		nextID:     1,
		byID:       make(map[int64]*repository.User),
		byUsername: make(map[string]*repository.User),
		byEmail:    make(map[string]*repository.User),
	}
}

func (r *fakeUserRepo) Create(ctx context.Context, tx db.Transaction, user *repository.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user == nil {
		return 0, fmt.Errorf("user is nil")
	}
	if _, ok := r.byUsername[user.Username]; ok {
		return 0, repository.ErrUsernameExists
	}
	if _, ok := r.byEmail[user.Email]; ok {
		return 0, repository.ErrEmailExists
	}
	if user.Role == "" {
		user.Role = repository.RoleUser
	}
	stored := *user
	stored.ID = r.nextID
	r.nextID++
	r.byID[stored.ID] = &stored
	r.byUsername[stored.Username] = &stored
	r.byEmail[stored.Email] = &stored
	return stored.ID, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, tx db.Transaction, id int64) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byUsername[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, tx db.Transaction, email string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = newHash
	return nil
}

func (r *fakeUserRepo) UpdateRefreshToken(ctx context.Context, userID int64, tokenHash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.RefreshTokenHash = tokenHash
	return nil
}

func (r *fakeUserRepo) UpdateAvatar(ctx context.Context, userID int64, avatarKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.AvatarKey = avatarKey
	return nil
}

func (r *fakeUserRepo) MarkEmailVerified(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[email]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.EmailVerified = true
	return nil
}

type publishedMessage struct {
	topic   string
	message *mq.Message
}

type fakeProducer struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{topic: topic, message: message})
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string]storedObject)}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + key
}

func (s *fakeObjectStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[objectPath(bucket, objectKey)] = storedObject{data: data, contentType: contentType}
	return nil
}

func (s *fakeObjectStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectPath(bucket, objectKey)]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", objectKey)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *fakeObjectStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectPath(bucket, objectKey)]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object not found: %s", objectKey)
	}
	return storage.ObjectStat{SizeBytes: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (s *fakeObjectStorage) RemoveObject(ctx context.Context, bucket, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectPath(bucket, objectKey))
	return nil
}

func (s *fakeObjectStorage) PresignGet(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error) {
	return "https://storage.local/" + objectPath(bucket, objectKey) + "?signed=1", nil
}

func (s *fakeObjectStorage) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	testCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = testCache.Close() })
	return testCache
}
