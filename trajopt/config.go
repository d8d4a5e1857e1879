package trajopt

import (
	"math"

	"github.com/pkg/errors"
)

// Circle approximation methods for the vehicle footprint.
const (
	CircleMethodUniform      = "uniform_circle"
	CircleMethodRearDrive    = "rear_drive"
	CircleMethodBicycleModel = "bicycle_model"
)

// maximum lateral half-width swept by the corridor bounds search, in meters
const maxSearchHalfWidth = 5.0

// Config is the runtime-tunable configuration of the optimizer. All fields may
// be changed between cycles through Reconfigure without restarting.
type Config struct {
	// horizon
	NumPoints                  int     `json:"num_points"`
	DeltaArcLength             float64 `json:"delta_arc_length"`
	NumCurvatureSamplingPoints int     `json:"num_curvature_sampling_points"`
	BackwardTrajLength         float64 `json:"backward_traj_length"`

	// options
	SteerLimitConstraint  bool `json:"steer_limit_constraint"`
	EnableWarmStart       bool `json:"enable_warm_start"`
	EnableManualWarmStart bool `json:"enable_manual_warm_start"`
	SoftConstraint        bool `json:"soft_constraint"`
	HardConstraint        bool `json:"hard_constraint"`
	LInfNorm              bool `json:"l_inf_norm"`
	TwoStepSoftConstraint bool `json:"two_step_soft_constraint"`
	ParallelBoundsSearch  bool `json:"parallel_bounds_search"`

	// vehicle circle approximation
	VehicleCircleMethod       string    `json:"vehicle_circle_method"`
	VehicleCircleNum          int       `json:"vehicle_circle_num"`
	VehicleCircleRadiusRatios []float64 `json:"vehicle_circle_radius_ratios"`

	// clearance margins
	SoftClearanceFromRoad         float64 `json:"soft_clearance_from_road"`
	SoftSecondClearanceFromRoad   float64 `json:"soft_second_clearance_from_road"`
	ExtraDesiredClearanceFromRoad float64 `json:"extra_desired_clearance_from_road"`
	ClearanceFromObject           float64 `json:"clearance_from_object"`

	// objective weights
	SoftAvoidanceWeight           float64 `json:"soft_avoidance_weight"`
	SoftSecondAvoidanceWeight     float64 `json:"soft_second_avoidance_weight"`
	LatErrorWeight                float64 `json:"lat_error_weight"`
	YawErrorWeight                float64 `json:"yaw_error_weight"`
	SteerInputWeight              float64 `json:"steer_input_weight"`
	SteerRateWeight               float64 `json:"steer_rate_weight"`
	ObstacleAvoidLatErrorWeight   float64 `json:"obstacle_avoid_lat_error_weight"`
	ObstacleAvoidYawErrorWeight   float64 `json:"obstacle_avoid_yaw_error_weight"`
	ObstacleAvoidSteerInputWeight float64 `json:"obstacle_avoid_steer_input_weight"`
	NearObjectsLength             float64 `json:"near_objects_length"`
	TerminalLatErrorWeight        float64 `json:"terminal_lat_error_weight"`
	TerminalYawErrorWeight        float64 `json:"terminal_yaw_error_weight"`
	TerminalPathLatErrorWeight    float64 `json:"terminal_path_lat_error_weight"`
	TerminalPathYawErrorWeight    float64 `json:"terminal_path_yaw_error_weight"`

	// OptimizationCenterOffset shifts the tracking error forward of the rear
	// axle. Zero means 0.8 * wheelbase.
	OptimizationCenterOffset float64 `json:"optimization_center_offset"`

	// BoundsSearchWidths are the decreasing step sizes of the multi-resolution
	// corridor sweep.
	BoundsSearchWidths []float64 `json:"bounds_search_widths"`

	// NumFixedFrontPoints is how many leading points are pinned to the
	// previous cycle's solution for temporal continuity.
	NumFixedFrontPoints int `json:"num_fixed_front_points"`

	// ego nearest search thresholds
	EgoNearestDistThreshold float64 `json:"ego_nearest_dist_threshold"`
	EgoNearestYawThreshold  float64 `json:"ego_nearest_yaw_threshold"`

	// QP solver tolerances
	SolverEpsAbs        float64 `json:"solver_eps_abs"`
	SolverEpsRel        float64 `json:"solver_eps_rel"`
	SolverMaxIterations int     `json:"solver_max_iterations"`
}

// DefaultConfig returns a configuration suitable for a passenger vehicle
// planning at roughly 10 Hz.
func DefaultConfig() Config {
	return Config{
		NumPoints:                  100,
		DeltaArcLength:             1.0,
		NumCurvatureSamplingPoints: 5,
		BackwardTrajLength:         5.0,

		SteerLimitConstraint:  true,
		EnableWarmStart:       true,
		EnableManualWarmStart: true,
		SoftConstraint:        true,
		HardConstraint:        true,
		LInfNorm:              true,
		TwoStepSoftConstraint: false,
		ParallelBoundsSearch:  false,

		VehicleCircleMethod:       CircleMethodUniform,
		VehicleCircleNum:          3,
		VehicleCircleRadiusRatios: []float64{1.0},

		SoftClearanceFromRoad:         0.1,
		SoftSecondClearanceFromRoad:   0.5,
		ExtraDesiredClearanceFromRoad: 0.0,
		ClearanceFromObject:           1.0,

		SoftAvoidanceWeight:           1000.0,
		SoftSecondAvoidanceWeight:     100.0,
		LatErrorWeight:                1.0,
		YawErrorWeight:                0.0,
		SteerInputWeight:              1.0,
		SteerRateWeight:               1.0,
		ObstacleAvoidLatErrorWeight:   10.0,
		ObstacleAvoidYawErrorWeight:   0.0,
		ObstacleAvoidSteerInputWeight: 0.01,
		NearObjectsLength:             30.0,
		TerminalLatErrorWeight:        100.0,
		TerminalYawErrorWeight:        100.0,
		TerminalPathLatErrorWeight:    1000.0,
		TerminalPathYawErrorWeight:    1000.0,

		BoundsSearchWidths: []float64{1.5, 0.5, 0.1},

		NumFixedFrontPoints: 3,

		EgoNearestDistThreshold: 3.0,
		EgoNearestYawThreshold:  math.Pi / 3,

		SolverEpsAbs:        1e-5,
		SolverEpsRel:        1e-5,
		SolverMaxIterations: 20000,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.NumPoints < 2 {
		return errors.New("num_points must be at least 2")
	}
	if c.DeltaArcLength <= 0 {
		return errors.New("delta_arc_length must be positive")
	}
	if c.NumCurvatureSamplingPoints < 1 {
		return errors.New("num_curvature_sampling_points must be at least 1")
	}
	if len(c.BoundsSearchWidths) == 0 {
		return errors.New("bounds_search_widths must not be empty")
	}
	for i := 1; i < len(c.BoundsSearchWidths); i++ {
		if c.BoundsSearchWidths[i] >= c.BoundsSearchWidths[i-1] {
			return errors.New("bounds_search_widths must be strictly decreasing")
		}
	}
	if c.BoundsSearchWidths[len(c.BoundsSearchWidths)-1] <= 0 {
		return errors.New("bounds_search_widths must be positive")
	}
	switch c.VehicleCircleMethod {
	case CircleMethodUniform:
		if len(c.VehicleCircleRadiusRatios) != 1 {
			return errors.Errorf("%s needs exactly one radius ratio", c.VehicleCircleMethod)
		}
	case CircleMethodRearDrive, CircleMethodBicycleModel:
		if len(c.VehicleCircleRadiusRatios) != 2 {
			return errors.Errorf("%s needs rear and front radius ratios", c.VehicleCircleMethod)
		}
	default:
		return errors.Errorf("unknown vehicle circle method %q", c.VehicleCircleMethod)
	}
	if c.VehicleCircleNum < 1 {
		return errors.New("vehicle_circle_num must be at least 1")
	}
	if c.NumFixedFrontPoints < 0 {
		return errors.New("num_fixed_front_points must not be negative")
	}
	if !c.SoftConstraint && !c.HardConstraint {
		return errors.New("at least one of soft_constraint and hard_constraint must be enabled")
	}
	return nil
}
