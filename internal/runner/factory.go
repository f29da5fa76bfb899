package runner

import (
	"fmt"

	"github.com/sfbench/sfbench/internal/types"
)

// New builds the runner for a task. Several task types are aliases that
// route to a shared implementation: the profile and permission-set types
// reduce to deployment checks, the cloud-specific and architecture-adjacent
// types use the composite architecture scoring, and EXPERIENCE is the
// newer name for COMMUNITY.
func New(task *types.Task, diff string, deps Deps) (Runner, error) {
	switch task.TaskType {
	case types.TaskTypeApex:
		return newApexRunner(task, diff, deps), nil
	case types.TaskTypeLWC:
		return newLWCRunner(task, diff, deps), nil
	case types.TaskTypeFlow:
		return newFlowRunner(task, diff, deps), nil
	case types.TaskTypeDeploy, types.TaskTypeProfile, types.TaskTypePermissionSet:
		return newDeployRunner(task, diff, deps), nil
	case types.TaskTypeLightningPage, types.TaskTypePageLayout,
		types.TaskTypeCommunity, types.TaskTypeExperience:
		return newConfigPageRunner(task, diff, deps), nil
	case types.TaskTypeArchitecture, types.TaskTypeIntegration,
		types.TaskTypeDataModel, types.TaskTypeSecurity,
		types.TaskTypeSalesCloud, types.TaskTypeServiceCloud,
		types.TaskTypeMarketingCloud, types.TaskTypeCommerceCloud,
		types.TaskTypePlatformCloud:
		return newArchitectureRunner(task, diff, deps), nil
	}
	return nil, fmt.Errorf("no runner for task type %s", task.TaskType)
}
