// Package buildtype implements the build-type auto-selection decision
// matrix: given a source package, its OpenStack deliverable metadata and
// cycle stage, choose exactly one of {release, milestone, snapshot} with
// a machine-readable reason code.
package buildtype

import (
	"fmt"
	"strings"

	"github.com/canonical/packastack/internal/releases"
)

// Type is the chosen build type for a package.
type Type string

const (
	Release   Type = "release"
	Milestone Type = "milestone"
	Snapshot  Type = "snapshot"
)

// ReasonCode explains why Type was chosen.
type ReasonCode string

const (
	ReasonHasRelease              ReasonCode = "HAS_RELEASE"
	ReasonPostFinalRelease        ReasonCode = "POST_FINAL_RELEASE"
	ReasonCycleTrailingRelease    ReasonCode = "CYCLE_TRAILING_RELEASE"
	ReasonHasMilestoneOnly        ReasonCode = "HAS_MILESTONE_ONLY"
	ReasonIntermediaryRelease     ReasonCode = "INTERMEDIARY_RELEASE"
	ReasonNoReleaseYet            ReasonCode = "NO_RELEASE_YET"
	ReasonPreFinalNoRelease       ReasonCode = "PRE_FINAL_NO_RELEASE"
	ReasonNotInReleases           ReasonCode = "NOT_IN_RELEASES"
	ReasonSnapshotForced          ReasonCode = "SNAPSHOT_FORCED"
	ReasonClientLibraryNoSnapshot ReasonCode = "CLIENT_LIBRARY_NO_SNAPSHOT"
	ReasonRetiredProject          ReasonCode = "RETIRED_PROJECT"
)

// Kind classifies what sort of OpenStack deliverable a package is.
type Kind string

const (
	KindService       Kind = "service"
	KindLibrary       Kind = "library"
	KindClient        Kind = "client"
	KindHorizonPlugin Kind = "horizon-plugin"
	KindTempestPlugin Kind = "tempest-plugin"
	KindOther         Kind = "other"
	KindUnknown       Kind = "unknown"
)

// KindConfidence records how Kind was determined.
type KindConfidence string

const (
	ConfidenceMetadata  KindConfidence = "metadata"
	ConfidenceHeuristic KindConfidence = "heuristic"
	ConfidenceDefault   KindConfidence = "default"
)

// PackageStatus is a package's status relative to the releases
// repository, used by the retirement override and new/defunct tracking.
type PackageStatus string

const (
	StatusActive  PackageStatus = "active"
	StatusNew     PackageStatus = "new"
	StatusDefunct PackageStatus = "defunct"
	StatusRetired PackageStatus = "retired"
)

var knownCoreServices = map[string]bool{
	"nova": true, "glance": true, "cinder": true, "neutron": true,
	"keystone": true, "swift": true, "heat": true, "horizon": true,
	"barbican": true, "designate": true, "ironic": true, "magnum": true,
	"manila": true, "mistral": true, "murano": true, "octavia": true,
	"sahara": true, "senlin": true, "trove": true, "zaqar": true,
	"placement": true, "aodh": true, "ceilometer": true, "gnocchi": true,
	"panko": true, "watcher": true, "vitrage": true, "blazar": true,
	"cyborg": true, "freezer": true, "karbor": true, "masakari": true,
	"monasca": true, "searchlight": true, "solum": true, "tacker": true,
	"zun": true,
}

var metadataKinds = map[string]Kind{
	"service":         KindService,
	"library":         KindLibrary,
	"client":          KindClient,
	"horizon-plugin":  KindHorizonPlugin,
	"tempest-plugin":  KindTempestPlugin,
	"other":           KindOther,
}

// InferDeliverableKind classifies a deliverable, preferring metadata over
// naming heuristics.
func InferDeliverableKind(d *releases.Deliverable, sourcePackage, deliverable string) (Kind, KindConfidence) {
	if d != nil && d.Type != "" {
		if k, ok := metadataKinds[d.Type]; ok {
			return k, ConfidenceMetadata
		}
		return KindOther, ConfidenceMetadata
	}

	if strings.HasSuffix(deliverable, "client") || strings.HasSuffix(sourcePackage, "client") {
		return KindClient, ConfidenceHeuristic
	}
	if strings.HasPrefix(deliverable, "oslo.") || strings.HasPrefix(deliverable, "oslo-") {
		return KindLibrary, ConfidenceHeuristic
	}
	if strings.HasPrefix(sourcePackage, "python-") && !strings.HasSuffix(sourcePackage, "client") {
		return KindLibrary, ConfidenceHeuristic
	}
	if strings.Contains(deliverable, "horizon") && strings.Contains(deliverable, "plugin") {
		return KindHorizonPlugin, ConfidenceHeuristic
	}
	if strings.Contains(deliverable, "-dashboard") || strings.Contains(deliverable, "-ui") {
		return KindHorizonPlugin, ConfidenceHeuristic
	}
	if strings.Contains(deliverable, "tempest") && strings.Contains(deliverable, "plugin") {
		return KindTempestPlugin, ConfidenceHeuristic
	}
	if knownCoreServices[deliverable] {
		return KindService, ConfidenceHeuristic
	}
	return KindUnknown, ConfidenceDefault
}

// Selection is the outcome of the decision matrix for one package.
type Selection struct {
	SourcePackage   string
	Deliverable     string
	ReleaseModel    string
	Kind            Kind
	KindConfidence  KindConfidence
	HasReleases     bool
	HasBetaRCFinal  bool
	LatestVersion   string
	CycleStage      releases.CycleStage
	ChosenType      Type
	ReasonCode      ReasonCode
	ReasonHuman     string
	PackageStatus   PackageStatus
}

// Request bundles the inputs to SelectBuildType.
type Request struct {
	ReleasesRepo  *releases.Repo
	Series        string
	SourcePackage string
	Deliverable   string
	CycleStage    releases.CycleStage
	ForceSnapshot bool
	PackageStatus PackageStatus
}

// SelectBuildType runs the 14-row release/milestone/snapshot decision
// matrix. The first matching row wins; rows are evaluated in a fixed
// order, including checking force_snapshot before the client/library
// snapshot-prevention policy (an explicit override always wins — see
// DESIGN.md for the corresponding Open Question resolution).
func SelectBuildType(req Request) Selection {
	var project *releases.Deliverable
	if req.ReleasesRepo.Exists() {
		project, _ = releases.LoadProjectReleases(req.ReleasesRepo, req.Series, req.Deliverable)
	}

	kind, kindConfidence := InferDeliverableKind(project, req.SourcePackage, req.Deliverable)

	releaseModel := ""
	hasReleases := false
	hasBetaRCFinal := false
	latestVersion := ""
	if project != nil {
		releaseModel = project.ReleaseModel
		hasReleases = project.HasReleases()
		hasBetaRCFinal = project.HasBetaRCOrFinal()
		latestVersion = project.GetLatestVersion()
	}

	base := Selection{
		SourcePackage:  req.SourcePackage,
		Deliverable:    req.Deliverable,
		ReleaseModel:   releaseModel,
		Kind:           kind,
		KindConfidence: kindConfidence,
		HasReleases:    hasReleases,
		HasBetaRCFinal: hasBetaRCFinal,
		LatestVersion:  latestVersion,
		CycleStage:     req.CycleStage,
		PackageStatus:  req.PackageStatus,
	}

	isClientOrLibrary := kind == KindClient || kind == KindLibrary
	preventSnapshot := isClientOrLibrary && !req.ForceSnapshot

	// Row 1: forced snapshot wins outright, before anything else.
	if req.ForceSnapshot {
		return finish(base, Snapshot, ReasonSnapshotForced, "Snapshot mode forced by user")
	}

	// Rows 2-3: not in release metadata at all.
	if project == nil {
		if preventSnapshot {
			return finish(base, Release, ReasonClientLibraryNoSnapshot,
				fmt.Sprintf("Client/library package %q uses debian/watch (no snapshots)", req.Deliverable))
		}
		return finish(base, Snapshot, ReasonNotInReleases,
			fmt.Sprintf("Project %q not found in openstack/releases for %s", req.Deliverable, req.Series))
	}

	// Rows 4-6: post-final series.
	if req.CycleStage == releases.PostFinal {
		if hasReleases {
			return finish(base, Release, ReasonPostFinalRelease, "Post-final series, release available")
		}
		if preventSnapshot {
			return finish(base, Release, ReasonClientLibraryNoSnapshot,
				fmt.Sprintf("Client/library package %q uses debian/watch (no snapshots)", req.Deliverable))
		}
		return finish(base, Snapshot, ReasonPreFinalNoRelease, "Post-final series with no release (rare)")
	}

	// Rows 7-14: pre-final (or unknown-stage) series.
	latest := project.GetLatestRelease()
	if latest != nil && latest.IsFinal {
		return finish(base, Release, ReasonHasRelease, "Latest release is final")
	}
	if latest != nil && (latest.IsBeta || latest.IsRC) && len(latest.Projects) > 0 {
		return finish(base, Milestone, ReasonHasMilestoneOnly, "Latest release is a milestone (beta/rc)")
	}
	if hasBetaRCFinal {
		return finish(base, Release, ReasonHasRelease, "Has beta/rc/final release")
	}
	if hasReleases {
		switch releaseModel {
		case "cycle-with-intermediary":
			return finish(base, Release, ReasonIntermediaryRelease, "cycle-with-intermediary has a release")
		case "cycle-trailing":
			return finish(base, Release, ReasonCycleTrailingRelease, "cycle-trailing has a release")
		default:
			return finish(base, Milestone, ReasonHasMilestoneOnly, "Only milestone releases so far")
		}
	}
	if preventSnapshot {
		return finish(base, Release, ReasonClientLibraryNoSnapshot,
			fmt.Sprintf("Client/library package %q uses debian/watch (no snapshots)", req.Deliverable))
	}
	return finish(base, Snapshot, ReasonNoReleaseYet, "No releases in series yet")
}

func finish(s Selection, t Type, code ReasonCode, human string) Selection {
	s.ChosenType = t
	s.ReasonCode = code
	s.ReasonHuman = human
	return s
}

// RetirementStatus is the upstream retirement state of a project.
type RetirementStatus string

const (
	RetirementActive          RetirementStatus = "active"
	RetirementRetired         RetirementStatus = "retired"
	RetirementPossiblyRetired RetirementStatus = "possibly_retired"
)

// RetirementInfo is the result of a retirement check for one project.
type RetirementInfo struct {
	Status      RetirementStatus
	Description string
}

// RetirementChecker answers whether a project has been retired upstream.
// Implementations typically consult project-config or a cached mirror of
// it; packastack never assumes network access is required.
type RetirementChecker interface {
	Check(project string) (RetirementInfo, error)
}

// ApplyRetirementOverride forces Selection to snapshot/RETIRED_PROJECT
// when the checker reports the project retired, regardless of the
// matrix result. Possibly-retired projects are left untouched but the
// caller should record them separately.
func ApplyRetirementOverride(sel Selection, checker RetirementChecker) (Selection, error) {
	if checker == nil {
		return sel, nil
	}
	info, err := checker.Check(sel.Deliverable)
	if err != nil {
		return sel, err
	}
	if info.Status == RetirementRetired {
		sel.PackageStatus = StatusRetired
		sel.ChosenType = Snapshot
		sel.ReasonCode = ReasonRetiredProject
		desc := info.Description
		if desc == "" {
			desc = "RETIRED in project-config"
		}
		sel.ReasonHuman = "Project is retired: " + desc
	}
	return sel, nil
}
