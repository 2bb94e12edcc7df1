package domain

import (
	"github.com/docmesh/graphrag-backend/internal/domain/documents"
	"github.com/docmesh/graphrag-backend/internal/domain/jobs"
	"github.com/docmesh/graphrag-backend/internal/domain/users"
)

type User = users.User
type Group = users.Group
type GroupMember = users.GroupMember
type DocumentShare = users.DocumentShare

type Document = documents.Document
type Chunk = documents.Chunk
type Entity = documents.Entity
type Relationship = documents.Relationship

type JobRun = jobs.JobRun

const (
	DocumentStatusPending    = documents.StatusPending
	DocumentStatusProcessing = documents.StatusProcessing
	DocumentStatusCompleted  = documents.StatusCompleted
	DocumentStatusFailed     = documents.StatusFailed

	PrincipalUser  = users.PrincipalUser
	PrincipalGroup = users.PrincipalGroup

	PermissionRead   = users.PermissionRead
	PermissionManage = users.PermissionManage
)

var (
	SupportedModels   = documents.SupportedModels
	SupportedDocTypes = documents.SupportedDocTypes
)

func ModelSupported(model string) bool { return documents.ModelSupported(model) }

func DocTypeSupported(docType string) bool { return documents.DocTypeSupported(docType) }

func PermissionRank(p string) int { return users.PermissionRank(p) }

func NormalizeEntityName(name string) string { return documents.NormalizeName(name) }
