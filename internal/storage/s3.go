package storage

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"classhub-backend/internal/config"
)

// PresignedUpload 업로드용 Presigned URL 정보
type PresignedUpload struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// S3Service S3 파일 스토리지 서비스
type S3Service struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	region        string
	presignExpiry time.Duration
}

// NewS3Service S3 서비스 생성. 버킷이 설정되지 않았으면 nil을 반환하고
// 파일 기능은 비활성화된다.
func NewS3Service(cfg config.S3Config) (*S3Service, error) {
	if cfg.BucketName == "" {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	log.Printf("[S3] Using bucket %s (%s)", cfg.BucketName, cfg.Region)
	return &S3Service{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.BucketName,
		region:        cfg.Region,
		presignExpiry: cfg.PresignExpiry,
	}, nil
}

// GenerateUploadURL 파일 업로드용 Presigned PUT URL 생성
func (s *S3Service) GenerateUploadURL(classroomID int64, fileName, contentType string) (*PresignedUpload, error) {
	key := s.buildKey(classroomID, fileName)

	req, err := s.presignClient.PresignPutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		ContentType: &contentType,
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &PresignedUpload{
		URL:       req.URL,
		Key:       key,
		ExpiresAt: time.Now().Add(s.presignExpiry),
	}, nil
}

// GetFileURL 파일 다운로드용 Presigned GET URL 생성
func (s *S3Service) GetFileURL(key string) (string, error) {
	req, err := s.presignClient.PresignGetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return req.URL, nil
}

// GetPublicURL 버킷 퍼블릭 URL (presign 없이 참조용으로 DB에 저장)
func (s *S3Service) GetPublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// DeleteFile S3 객체 삭제 (실패는 로그만 남김)
func (s *S3Service) DeleteFile(key string) {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		log.Printf("[S3] Failed to delete %s: %v", key, err)
	}
}

// buildKey 학급별 네임스페이스 키 생성. 파일명은 안전한 문자만 남긴다.
func (s *S3Service) buildKey(classroomID int64, fileName string) string {
	base := filepath.Base(fileName)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)

	return fmt.Sprintf("classrooms/%d/%s-%s", classroomID, uuid.NewString(), base)
}
