// package services defines the clients for the detection service's control plane and upload destination
package services

import (
	"context"

	"github.com/desertthunder/detectx/internal/models"
)

// CredentialClient obtains single-use upload credentials.
type CredentialClient interface {
	RequestCredential(ctx context.Context, fileName string) (*models.UploadCredential, error)
}

// TaskLauncher starts processing for an uploaded object and returns the task identifier.
type TaskLauncher interface {
	StartTask(ctx context.Context, req TaskRequest) (string, error)
}

// Catalog lists the processing modules and the classes each module can detect.
type Catalog interface {
	ListModules(ctx context.Context) ([]string, error)
	ListClasses(ctx context.Context, module string) ([]string, error)
}

// ProgressFunc receives upload progress as a whole percentage in [0, 100].
type ProgressFunc func(percentage int)

// Transport streams an asset to the destination named by a credential. onProgress may be nil.
type Transport interface {
	Upload(ctx context.Context, cred *models.UploadCredential, asset *models.FileAsset, onProgress ProgressFunc) error
}

// TaskRequest describes a task to start. SelectedClasses are dropped when ModuleName is empty.
type TaskRequest struct {
	ContainerID     string
	ObjectKey       string
	ModuleName      string
	SelectedClasses []string
}

// Task converts the request into a [models.Task] with the returned identifier.
func (r TaskRequest) Task(taskID string) *models.Task {
	t := &models.Task{
		TaskID:      taskID,
		ContainerID: r.ContainerID,
		ObjectKey:   r.ObjectKey,
		ModuleName:  r.ModuleName,
	}
	if r.ModuleName != "" && len(r.SelectedClasses) > 0 {
		t.SelectedClasses = append([]string(nil), r.SelectedClasses...)
	}
	return t
}
